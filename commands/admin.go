package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sknet/models"
	"sknet/services"
)

var tiersFile string

var seedTiersCmd = &cobra.Command{
	Use:   "seed-tiers",
	Short: "Create or update reward tiers",
	Long: `Upsert reward tiers by order. Without --file the default star ladder is used.

File format:
  tiers:
    - order: 1
      threshold: 30
      rank: 1 Star
      bonusRs: 200
    - order: 2
      threshold: 50
      rank: 2 Star
      bonusRs: 500
      isActive: false`,
	RunE: runSeedTiers,
}

var purgePinsCmd = &cobra.Command{
	Use:   "purge-pins",
	Short: "Delete unused PINs past their expiry",
	RunE:  runPurgePins,
}

var rootAccount services.AccountFields

var createRootCmd = &cobra.Command{
	Use:   "create-root",
	Short: "Create the root member of an empty network",
	RunE:  runCreateRoot,
}

func init() {
	seedTiersCmd.Flags().StringVarP(&tiersFile, "file", "f", "", "YAML file with reward tiers")

	f := createRootCmd.Flags()
	f.StringVar(&rootAccount.Username, "username", "", "root username")
	f.StringVar(&rootAccount.Email, "email", "", "root email")
	f.StringVar(&rootAccount.FullName, "full-name", "", "root full name")
	f.StringVar(&rootAccount.Phone, "phone", "", "root phone")
	f.StringVar(&rootAccount.Password, "password", "", "root password (or SKN_ROOT_PASSWORD)")
	createRootCmd.MarkFlagRequired("username")
	createRootCmd.MarkFlagRequired("email")
	createRootCmd.MarkFlagRequired("full-name")
	createRootCmd.MarkFlagRequired("phone")
}

type tierEntry struct {
	Order     int    `yaml:"order"`
	Threshold int64  `yaml:"threshold"`
	Rank      string `yaml:"rank"`
	BonusRs   int64  `yaml:"bonusRs"`
	IsActive  *bool  `yaml:"isActive"`
}

type tierFile struct {
	Tiers []tierEntry `yaml:"tiers"`
}

// loadTiers reads a tier file. Tiers are active unless isActive is false.
func loadTiers(path string) ([]models.RewardTier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("%s has no tiers", path)
	}

	tiers := make([]models.RewardTier, len(file.Tiers))
	for i, e := range file.Tiers {
		tiers[i] = models.RewardTier{
			Order:     e.Order,
			Threshold: e.Threshold,
			Rank:      e.Rank,
			BonusRs:   e.BonusRs,
			IsActive:  e.IsActive == nil || *e.IsActive,
		}
	}
	return tiers, nil
}

func runSeedTiers(cmd *cobra.Command, _ []string) error {
	tiers := services.DefaultTiers()
	if tiersFile != "" {
		var err error
		if tiers, err = loadTiers(tiersFile); err != nil {
			return err
		}
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.network(nil, nil).SeedTiers(cmd.Context(), tiers); err != nil {
		return err
	}
	a.log.Info("reward tiers seeded", zap.Int("count", len(tiers)))
	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d tiers\n", len(tiers))
	return nil
}

func runPurgePins(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.network(nil, nil).PurgeExpiredPins(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired pins\n", deleted)
	return nil
}

func runCreateRoot(cmd *cobra.Command, _ []string) error {
	account := rootAccount
	if account.Password == "" {
		account.Password = os.Getenv("SKN_ROOT_PASSWORD")
	}

	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.network(nil, nil).CreateRoot(cmd.Context(), services.RootRequest{Account: account})
	if err != nil {
		return err
	}
	a.log.Info("root created", zap.String("userId", res.Member.ID))
	fmt.Fprintf(cmd.OutOrStdout(), "root created: %s\nadd it to ADMIN_IDS to grant admin access\n", res.Member.ID)
	return nil
}
