package layoutmigration

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/dbx"
)

// Settings of the old app id that have no meaning under the new one.
var obsoleteAppKeys = []string{"ocsid", "types", "enabled"}

const installedVersionKey = "installed_version"

// UpdateFileCache makes size equal unencrypted_size on every encrypted row
// of the file index and verifies no such row is left. Unencrypted rows are
// not touched. It returns the number of rows repaired.
func (m *Migration) UpdateFileCache(ctx context.Context) (int64, error) {
	repo := m.rm.FileCache(m.db)
	n, err := repo.FixEncryptedSizes(ctx)
	if err != nil {
		return 0, fmt.Errorf("update file cache: %w", err)
	}
	left, err := repo.CountSizeMismatches(ctx)
	if err != nil {
		return n, fmt.Errorf("verify file cache: %w", err)
	}
	if left > 0 {
		m.log.Error(ctx, "file cache sizes still differ", "rows", left)
		return n, fmt.Errorf("verify file cache: %d encrypted rows still differ", left)
	}
	m.log.Info(ctx, "file cache sizes repaired", "rows", n)
	return n, nil
}

// UpdateDB moves the settings of the old app id over to the new one in a
// single transaction: obsolete keys are dropped, the remaining app values
// and user preferences overwrite the new app's defaults and the old rows
// are deleted.
func (m *Migration) UpdateDB(ctx context.Context) error {
	var moved, prefs int
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		apps := m.rm.AppConfig(tx)
		for _, k := range obsoleteAppKeys {
			if err := apps.DeleteKey(ctx, common.LegacyAppID, k); err != nil {
				return err
			}
		}

		values, err := apps.List(ctx, common.LegacyAppID)
		if err != nil {
			return err
		}
		for _, v := range values {
			if v.Key == installedVersionKey {
				continue
			}
			if err := apps.SetValue(ctx, common.AppID, v.Key, v.Value); err != nil {
				return err
			}
			moved++
		}
		if err := apps.DeleteApp(ctx, common.LegacyAppID); err != nil {
			return err
		}

		pr := m.rm.Preferences(tx)
		rows, err := pr.ListApp(ctx, common.LegacyAppID)
		if err != nil {
			return err
		}
		for _, p := range rows {
			if p.Key == installedVersionKey {
				continue
			}
			if err := pr.SetValue(ctx, p.UserID, common.AppID, p.Key, p.Value); err != nil {
				return err
			}
			prefs++
		}
		return pr.DeleteApp(ctx, common.LegacyAppID)
	})
	if err != nil {
		return fmt.Errorf("update db: %w", err)
	}
	m.log.Info(ctx, "settings moved to new app id", "app_values", moved, "preferences", prefs)
	return nil
}
