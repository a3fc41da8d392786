package model

import (
	"errors"
	"fmt"
)

// MaxReasonLen bounds rejection/revocation/reassignment reason text.
const MaxReasonLen = 500

var validRoles = map[Role]struct{}{
	RoleSigner: {}, RoleFormFiller: {}, RoleApprover: {},
}

var validMethods = map[SignatureMethod]struct{}{
	MethodEmailOTP: {}, MethodSMSOTP: {},
}

var validFieldTypes = map[FieldType]struct{}{
	FieldSignature: {}, FieldText: {}, FieldCheckbox: {}, FieldRadio: {},
	FieldTextarea: {}, FieldDate: {}, FieldDropdown: {},
}

// Validate checks the structural invariants of the package:
// known field types and roles, and every signer assignment carrying a
// non-empty, duplicate-free set of signature methods.
func (p *Package) Validate() error {
	if p.Name == "" {
		return errors.New("empty package name")
	}
	for i := range p.Fields {
		f := &p.Fields[i]
		if _, ok := validFieldTypes[f.Type]; !ok {
			return fmt.Errorf("field[%d]: unknown type %q", i, f.Type)
		}
		for j := range f.AssignedUsers {
			au := &f.AssignedUsers[j]
			if au.Email == "" {
				return fmt.Errorf("field[%d] user[%d]: empty email", i, j)
			}
			if _, ok := validRoles[au.Role]; !ok {
				return fmt.Errorf("field[%d] user[%d]: unknown role %q", i, j, au.Role)
			}
			if au.Role == RoleSigner {
				if len(au.Methods) == 0 {
					return fmt.Errorf("field[%d] user[%d]: signer requires at least one signature method", i, j)
				}
			}
			seen := make(map[SignatureMethod]struct{}, len(au.Methods))
			for _, m := range au.Methods {
				if _, ok := validMethods[m]; !ok {
					return fmt.Errorf("field[%d] user[%d]: unknown signature method %q", i, j, m)
				}
				if _, dup := seen[m]; dup {
					return fmt.Errorf("field[%d] user[%d]: duplicate signature method %q", i, j, m)
				}
				seen[m] = struct{}{}
			}
		}
	}
	if p.Options.ReminderPeriod != "" {
		if _, ok := p.Options.ReminderPeriod.Duration(); !ok {
			return fmt.Errorf("unknown reminder period %q", p.Options.ReminderPeriod)
		}
	}
	return nil
}

// ReadyToSend checks the send preconditions on top of Validate:
// at least one field and no field without an assigned user.
func (p *Package) ReadyToSend() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Fields) == 0 {
		return errors.New("package has no fields")
	}
	for i := range p.Fields {
		if len(p.Fields[i].AssignedUsers) == 0 {
			return fmt.Errorf("field[%d] has no assigned user", i)
		}
	}
	return nil
}
