package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/absfs/vaultfs"
	"github.com/absfs/vaultfs/vaultstore"
)

var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Create a new vault",
	Long: `Init creates a vault in dir and adds it to the catalogue.

The passphrase is read from VAULTFS_PASSPHRASE or prompted for twice.`,
	Example: `  vaultfs init ~/Vaults/work --name work
  vaultfs init ./legacy --format 6`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var (
	initName      string
	initFormat    int
	initCipher    string
	initThreshold int
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the format of the selected vault",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the passphrase of the selected vault",
	Long: `Passwd re-wraps the masterkey under a new passphrase. The previous
masterkey file is kept as a backup next to it.

The new passphrase is read from VAULTFS_NEW_PASSPHRASE or prompted for.`,
	Args: cobra.NoArgs,
	RunE: runPasswd,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Decrypt every file below path and report failures",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(initCmd, infoCmd, passwdCmd, verifyCmd)

	initCmd.Flags().StringVarP(&initName, "name", "n", "",
		"Display name (defaults to the directory name)")
	initCmd.Flags().IntVar(&initFormat, "format", vaultfs.MaxVaultFormat,
		"Vault format (5 to 8)")
	initCmd.Flags().StringVar(&initCipher, "cipher", "",
		"Cipher combo, SIV_GCM or SIV_CTRMAC (format 8 only)")
	initCmd.Flags().IntVar(&initThreshold, "threshold", 0,
		"Name shortening threshold (format 8 only)")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	location, err := absLocation(args[0])
	if err != nil {
		return err
	}
	passphrase, err := newPassphrase(passphraseEnv, "New passphrase: ")
	if err != nil {
		return err
	}
	v, err := app.provider.Create(ctx, vaultfs.NewVault{
		Name:                initName,
		Location:            location,
		Format:              initFormat,
		CipherCombo:         vaultfs.CipherCombo(initCipher),
		ShorteningThreshold: initThreshold,
	}, passphrase)
	if err != nil {
		return err
	}
	if err := app.catalogue.Put(vaultstore.FromVault(v)); err != nil {
		return err
	}
	printSuccess("Created vault %s (format %d, %s) at %s", v.Name, v.Format, v.CipherCombo, v.Location)
	return nil
}

// vaultDetails holds what can be learned about a vault without unlocking it.
type vaultDetails struct {
	Format      int
	KeyFile     string
	ScryptCost  int
	HasConfig   bool
	ConfigKeyID string
}

func inspectVault(ctx context.Context, p *vaultfs.Provider, v vaultfs.Vault) (vaultDetails, error) {
	unverified, err := p.ReadVaultConfig(ctx, v)
	if err != nil {
		return vaultDetails{}, err
	}
	token, err := p.CreateUnlockToken(ctx, v, unverified)
	if err != nil {
		return vaultDetails{}, err
	}
	file, err := vaultfs.ParseMasterkeyFile(token.KeyFile)
	if err != nil {
		return vaultDetails{}, err
	}
	d := vaultDetails{Format: file.Version, KeyFile: token.KeyFileName, ScryptCost: file.ScryptCostParam}
	if unverified != nil {
		d.Format = unverified.Format
		d.HasConfig = true
		d.ConfigKeyID = unverified.KeyID
	}
	return d, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	r, err := app.lookup("")
	if err != nil {
		return err
	}
	d, err := inspectVault(cmd.Context(), app.provider, r.Vault())
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "Name:       %s\n", r.Name)
	fmt.Fprintf(app.out, "ID:         %s\n", r.ID)
	fmt.Fprintf(app.out, "Location:   %s\n", r.Location)
	fmt.Fprintf(app.out, "Format:     %d\n", d.Format)
	if r.CipherCombo != "" {
		fmt.Fprintf(app.out, "Cipher:     %s\n", r.CipherCombo)
	}
	if r.ShorteningThreshold > 0 {
		fmt.Fprintf(app.out, "Threshold:  %d\n", r.ShorteningThreshold)
	}
	fmt.Fprintf(app.out, "Key file:   %s (scrypt cost %d)\n", d.KeyFile, d.ScryptCost)
	if d.HasConfig {
		fmt.Fprintf(app.out, "Config:     %s (kid %s)\n", vaultfs.VaultConfigFileName, d.ConfigKeyID)
	}
	fmt.Fprintf(app.out, "Added:      %s\n", r.Added.Local().Format("2006-01-02 15:04"))
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	r, err := app.lookup("")
	if err != nil {
		return err
	}
	v := r.Vault()
	unverified, err := app.provider.ReadVaultConfig(ctx, v)
	if err != nil {
		return err
	}
	oldPass, err := app.passphrase.Passphrase(ctx, v)
	if err != nil {
		return err
	}
	if ok, err := app.provider.IsVaultPasswordValid(ctx, v, unverified, oldPass); err != nil {
		return err
	} else if !ok {
		return vaultfs.ErrInvalidPassphrase
	}
	newPass, err := newPassphrase("VAULTFS_NEW_PASSPHRASE", "New passphrase: ")
	if err != nil {
		return err
	}
	if err := app.provider.ChangePassword(ctx, v, unverified, oldPass, newPass); err != nil {
		return err
	}
	printSuccess("Changed passphrase of %s", r.Name)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, err := app.open(ctx)
	if err != nil {
		return err
	}
	folder, err := repo.Resolve(ctx, optionalPath(args))
	if err != nil {
		return err
	}
	failed, err := repo.VerifyAll(ctx, folder)
	for _, p := range failed {
		printError("%s", p)
	}
	if err != nil {
		return err
	}
	printSuccess("All files below %s decrypted successfully", folder.Path())
	return nil
}
