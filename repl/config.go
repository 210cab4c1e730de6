package repl

import (
	"errors"
	"time"
)

// Config holds the configuration for the Replicator
type Config struct {
	// ConnectionString is the PostgreSQL connection string for replication
	// Must include replication=database parameter
	ConnectionString string

	// SlotName is the name of the replication slot to use
	// If empty, defaults to "test_slot"
	SlotName string

	// PublicationName is the name of the PostgreSQL publication
	// If empty, defaults to "test_pub"
	PublicationName string

	// Tables is the list of tables in "schema.table" format the publication
	// covers. Only used when CreatePublication is set.
	Tables []string

	// TemporarySlot if true, creates a temporary replication slot that is
	// automatically dropped when the connection closes
	TemporarySlot bool

	// CreatePublication if true, creates the publication for Tables before
	// starting replication
	CreatePublication bool

	// StandbyMessageTimeout is how often to send standby status updates
	// Defaults to 10 seconds if not set
	StandbyMessageTimeout time.Duration
}

// Validate checks the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ConnectionString == "" {
		return errors.New("ConnectionString is required")
	}
	if c.CreatePublication && len(c.Tables) == 0 {
		return errors.New("at least one table must be specified to create a publication")
	}
	return nil
}

// applyDefaults sets default values for optional configuration fields
func (c *Config) applyDefaults() {
	if c.SlotName == "" {
		c.SlotName = "test_slot"
	}
	if c.PublicationName == "" {
		c.PublicationName = "test_pub"
	}
	if c.StandbyMessageTimeout == 0 {
		c.StandbyMessageTimeout = 10 * time.Second
	}
}
