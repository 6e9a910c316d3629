package main

import (
	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// credentials asks for whatever part of the login is not given as argument
func credentials(args []string) (username, password string, err error) {
	if len(args) > 0 {
		username = args[0]
	} else {
		prompt := &survey.Input{Message: "Enter your Proton VPN username or email:"}
		if err = survey.AskOne(prompt, &username, survey.WithValidator(survey.Required)); err != nil {
			return "", "", err
		}
	}
	prompt := &survey.Password{Message: "Enter your Proton VPN password:"}
	if err = survey.AskOne(prompt, &password, survey.WithValidator(survey.Required)); err != nil {
		return "", "", err
	}
	return username, password, nil
}

func loginSubcommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login [username]",
		Short: "Log in to your Proton VPN account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			username, password, err := credentials(args)
			if err != nil {
				return err
			}
			if err = s.Login(cmd.Context(), username, password); err != nil {
				return err
			}
			done("Successful login.")
			return nil
		},
	}
}

func logoutSubcommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and remove the stored session, the settings are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err = s.Logout(cmd.Context()); err != nil {
				return err
			}
			done("Successful logout.")
			return nil
		},
	}
}
