package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDBRequiresURL(t *testing.T) {
	for _, url := range []string{"", "   "} {
		db, err := NewDB(context.Background(), url)
		assert.ErrorIs(t, err, ErrNoURL)
		assert.Nil(t, db)
	}
}
