package main

import (
	"github.com/protomem/attendance-tracker/internal/model"
	"github.com/protomem/attendance-tracker/internal/validator"
)

// Validation rules

const (
	_maxUserNameRunes = 100
	_maxPageSize      = 1000
)

func validateUserName(v *validator.Validator, userName string) {
	v.CheckField(validator.NotBlank(userName), "name", "cannot be blank")
	v.CheckField(validator.MaxRunes(userName, _maxUserNameRunes), "name", "is too long")
}

func validateRole(v *validator.Validator, role string) model.Role {
	parsed, err := model.ParseRole(role)
	v.CheckField(err == nil, "role", "must be one of Student, Mentor, Other")
	return parsed
}

func validateHardwareAddr(v *validator.Validator, addr string) model.HardwareAddr {
	parsed, err := model.ParseHardwareAddr(addr)
	v.CheckField(err == nil, "hardwareAddr", "must be a MAC address like AA:BB:CC:DD:EE:FF")
	return parsed
}

func validateFindOptions(v *validator.Validator, limit, offset int) {
	v.CheckField(validator.Between(limit, 0, _maxPageSize), "limit", "must be between 0 and 1000")
	v.CheckField(offset >= 0, "offset", "must not be negative number")
}
