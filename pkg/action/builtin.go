package action

import (
	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/tx"
)

// Legacy Zenodo tables feeding the user actions.
const (
	TableUser        = "accounts_user"
	TableUserProfile = "userprofiles_userprofile"
)

// Built-in action names.
const (
	ActionRegisterUser    = "register-user"
	ActionEditUser        = "edit-user"
	ActionEditUserProfile = "edit-user-profile"
)

// Builtins returns the user actions of the Zenodo to RDM migration.
func Builtins() []Action {
	return []Action{
		{
			// sign-up creates the account and its profile in one transaction
			Name: ActionRegisterUser,
			Rules: RuleSet{
				TableUserProfile: tx.Insert,
				TableUser:        tx.Insert,
			},
			Entry: entry.UserEntry{},
			Stamp: []string{"created", "updated"},
		},
		{
			Name:  ActionEditUser,
			Rules: RuleSet{TableUser: tx.Update},
			Entry: entry.UserEntry{Partial: true},
			Stamp: []string{"updated"},
		},
		{
			Name:  ActionEditUserProfile,
			Rules: RuleSet{TableUserProfile: tx.Update},
			Entry: entry.UserEntry{Partial: true},
			Stamp: []string{"updated"},
		},
	}
}

// RegisterBuiltins registers all built-in actions.
func (r *Registry) RegisterBuiltins() error {
	for _, a := range Builtins() {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}
