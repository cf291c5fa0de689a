package main

import (
	"context"
	"fmt"

	"github.com/peereval/backend/core/user"
)

// addUser creates a user.User, or sets the password of the existing one.
func (cli *commandLine) addUser(email, name, role, pwd string) error {
	if !user.ValidRole(role) {
		return fmt.Errorf("invalid role %q", role)
	}
	ctx := context.Background()
	usr, created, err := cli.usrSvc.Register(ctx, user.NewUser{Email: email, Name: name, Password: pwd, Role: role})
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("user %s created (%s)\n", usr.Email, usr.Role)
		return nil
	}
	if err = cli.usrSvc.SetPassword(ctx, usr.Email, pwd); err != nil {
		return err
	}
	fmt.Printf("user %s already exists: password updated\n", usr.Email)
	return nil
}
