package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

func TestServerOutlastsReset(t *testing.T) {
	for name, timeouts := range map[string]models.TimeoutTier{
		"headless": models.HeadlessTimeouts,
		"visible":  models.VisibleTimeouts,
	} {
		t.Run(name, func(t *testing.T) {
			srv := newServer(":0", http.NotFoundHandler(), timeouts)

			assert.Equal(t, ":0", srv.Addr)
			assert.Greater(t, srv.WriteTimeout, timeouts.Launch+timeouts.Test)
			assert.Equal(t, 15*time.Second, srv.ReadTimeout)
		})
	}
}
