package database

type FindOptions struct {
	Limit  int
	Offset int
}
