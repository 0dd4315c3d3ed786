package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}

	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestOutboxSchemaHasDeliveryIndexes(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/0002_outbox.up.sql")
	require.NoError(t, err)

	schema := string(raw)
	assert.Contains(t, schema, "ON outbox_messages (status, created_at)")
	assert.Contains(t, schema, "ON outbox_messages (is_retry, scheduled_retry_at)")
	assert.Contains(t, schema, "UNIQUE (message_id, consumer_group_registration_id)")
}
