package cmd

import (
	"fmt"
	"path"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/vaultstore"
)

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "Manage the catalogue of known vaults",
}

var vaultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known vaults",
	Args:  cobra.NoArgs,
	RunE:  runVaultsList,
}

var vaultsAddCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Add an existing vault to the catalogue",
	Args:  cobra.ExactArgs(1),
	RunE:  runVaultsAdd,
}

var vaultsForgetCmd = &cobra.Command{
	Use:   "forget <vault>",
	Short: "Remove a vault from the catalogue",
	Long:  `Forget removes the catalogue entry only. The vault itself is not touched.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVaultsForget,
}

var addName string

func init() {
	rootCmd.AddCommand(vaultsCmd)
	vaultsCmd.AddCommand(vaultsListCmd, vaultsAddCmd, vaultsForgetCmd)

	vaultsAddCmd.Flags().StringVarP(&addName, "name", "n", "",
		"Display name (defaults to the directory name)")
}

func runVaultsList(cmd *cobra.Command, args []string) error {
	records, err := app.catalogue.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		printInfo("No vaults. Create one with 'vaultfs init' or add one with 'vaultfs vaults add'.")
		return nil
	}
	w := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFORMAT\tCIPHER\tLOCATION\tID")
	for _, r := range records {
		combo := string(r.CipherCombo)
		if combo == "" {
			combo = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.Format, combo, r.Location, r.ID)
	}
	return w.Flush()
}

func runVaultsAdd(cmd *cobra.Command, args []string) error {
	location, err := absLocation(args[0])
	if err != nil {
		return err
	}
	name := addName
	if name == "" {
		name = path.Base(location)
	}
	v := vaultfs.Vault{ID: uuid.NewString(), Name: name, Location: location}
	d, err := inspectVault(cmd.Context(), app.provider, v)
	if err != nil {
		return fmt.Errorf("%s is not a vault: %w", location, err)
	}
	if d.Format < vaultfs.MinVaultFormat || d.Format > vaultfs.MaxVaultFormat {
		return &vaultfs.UnsupportedVaultFormatError{Format: d.Format, Min: vaultfs.MinVaultFormat, Max: vaultfs.MaxVaultFormat}
	}
	v.Format = d.Format
	if err := app.catalogue.Put(vaultstore.FromVault(v)); err != nil {
		return err
	}
	printSuccess("Added vault %s (format %d) as %s", name, d.Format, v.ID)
	return nil
}

func runVaultsForget(cmd *cobra.Command, args []string) error {
	r, err := app.lookup(args[0])
	if err != nil {
		return err
	}
	if err := app.catalogue.Delete(r.ID); err != nil {
		return err
	}
	printSuccess("Forgot vault %s, its files are left in %s", r.Name, r.Location)
	return nil
}
