package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"policyreader/internal/util"
)

func TestNewDocumentDefaultsTitle(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	d := NewDocument("d-1", " agent@example.com ", "", "gs://policies/2024/Motor Policy.pdf", " Motor ", now)
	require.Equal(t, "Motor Policy", d.Title)
	require.Equal(t, "agent@example.com", d.Owner)
	require.Equal(t, "Motor", d.Category)
	require.Equal(t, StatusDraft, d.Status)
	require.Equal(t, now, d.CreatedAt)

	d = NewDocument("d-2", "", "Renewal", `C:\scans\health.pdf`, "Health", now)
	require.Equal(t, "Renewal", d.Title)
	require.Equal(t, "health", NewDocument("d-3", "", "", `C:\scans\health.pdf`, "", now).Title)
}

func TestAdmit(t *testing.T) {
	base := NewDocument("d-1", "", "", "motor.pdf", "Motor", time.Now())
	cases := []struct {
		name   string
		mutate func(*Document)
		want   error
	}{
		{"draft", func(*Document) {}, nil},
		{"failed", func(d *Document) { d.Status = StatusFailed }, nil},
		{"processing", func(d *Document) { d.Status = StatusProcessing }, util.ErrAlreadyProcessing},
		{"completed", func(d *Document) { d.Status = StatusCompleted }, util.ErrAlreadyCompleted},
		{"no file", func(d *Document) { d.SourceFile = "" }, util.ErrMissingSourceFile},
		{"no category", func(d *Document) { d.Category = "" }, util.ErrMissingCategory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := base
			tc.mutate(&d)
			err := d.Admit()
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}
