package model

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleStudent Role = "Student"
	RoleMentor  Role = "Mentor"
	RoleOther   Role = "Other"
)

func Roles() []Role {
	return []Role{RoleStudent, RoleMentor, RoleOther}
}

// ParseRole accepts any letter case and returns the canonical role.
func ParseRole(s string) (Role, error) {
	for _, role := range Roles() {
		if strings.EqualFold(strings.TrimSpace(s), string(role)) {
			return role, nil
		}
	}
	return "", NewError("role", fmt.Errorf("%w: %q", ErrInvalid, s))
}
