package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/streamctl/internal/audit"
	"github.com/benaskins/streamctl/internal/keychain"
)

// OpenStore opens the credential store under dir: the system keychain where
// available, else dir/credentials.json, wrapped so every access is recorded
// in dir/audit.log. The returned close function closes the audit log.
func OpenStore(dir, actor string) (*keychain.AuditedStore, func() error, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	inner, err := keychain.NewSystemStore(filepath.Join(dir, "credentials.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	auditLog, err := audit.NewLogger(filepath.Join(dir, "audit.log"))
	if err != nil {
		return nil, nil, err
	}

	metadata, err := keychain.NewMetadataStore(filepath.Join(dir, "credentials-meta.json"))
	if err != nil {
		auditLog.Close()
		return nil, nil, fmt.Errorf("opening credential metadata: %w", err)
	}

	return keychain.NewAuditedStore(inner, auditLog, metadata, actor), auditLog.Close, nil
}
