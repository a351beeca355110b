package model

type ID = uint

type User struct {
	ID        ID        `json:"id" db:"id"`
	CreatedAt Timestamp `json:"createdAt" db:"created_at"`
	UpdatedAt Timestamp `json:"updatedAt" db:"updated_at"`

	Name string `json:"name" db:"name"`
	Role Role   `json:"role" db:"role"`

	// Nil until the user registers a device.
	HardwareAddr *HardwareAddr `json:"hardwareAddr,omitempty" db:"hardware_addr"`
}

// Session is one interval of presence. LogoutAt is nil while the user is present.
type Session struct {
	ID ID `json:"id" db:"id"`

	User ID `json:"userId" db:"user_id"`

	LoginAt  Timestamp  `json:"loginAt" db:"login_time"`
	LogoutAt *Timestamp `json:"logoutAt" db:"logout_time"`
}

func (s Session) Open() bool {
	return s.LogoutAt == nil
}

type SessionChangeKind int

const (
	SessionOpened SessionChangeKind = iota + 1
	SessionClosed
)

func (k SessionChangeKind) String() string {
	switch k {
	case SessionOpened:
		return "opened"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionChange is a single durable mutation produced by a reconcile cycle.
// Session is only meaningful for SessionClosed.
type SessionChange struct {
	Kind    SessionChangeKind
	User    ID
	Session ID
	At      Timestamp
}
