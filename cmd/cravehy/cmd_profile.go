package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cravehy/internal/profile"
)

var profileFile string

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage health profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update a profile from JSON",
	Long: `Reads a profile as JSON from --file or stdin and stores it.

Example profile:
  {
    "name": "dad",
    "diet": "low_sodium",
    "allergies": ["peanut"],
    "limits": [{"key": "sodium_mg", "max": 400}],
    "budget": 1500
  }`,
	RunE: runProfileSet,
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileShow,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profile names",
	RunE:  runProfileList,
}

func init() {
	profileSetCmd.Flags().StringVarP(&profileFile, "file", "f", "", "Profile JSON file (default: stdin)")

	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileListCmd)
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if profileFile != "" {
		data, err = os.ReadFile(profileFile)
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	p, err := profile.FromJSON(data)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := profile.Save(st, p); err != nil {
		return err
	}
	fmt.Printf("Profile %q saved\n", p.Name)
	return nil
}

func runProfileShow(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := profile.Load(st, args[0])
	if err != nil {
		return err
	}
	fmt.Println(renderProfile(p))
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := st.ListProfileNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No profiles yet. Create one with 'cravehy profile set'.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
