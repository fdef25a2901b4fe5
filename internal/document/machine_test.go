package document

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio/internal/shared"
)

type stubDoc struct {
	locked bool
}

func testMachine() *Machine[stubDoc] {
	m := NewMachine[stubDoc](KindReceipt)
	m.Allow(StatusDraft, ActionIssue, StatusIssued, nil)
	m.Allow(StatusIssued, ActionCancel, StatusCancelled, func(d stubDoc) error {
		if d.locked {
			return shared.NewDomain("receipt is locked")
		}
		return nil
	})
	m.Allow(StatusCancelled, ActionRestore, StatusDraft, nil)
	return m
}

func TestMachineFollowsDefinedEdges(t *testing.T) {
	m := testMachine()

	next, err := m.Next(StatusDraft, ActionIssue, stubDoc{})
	require.NoError(t, err)
	require.Equal(t, StatusIssued, next)

	next, err = m.Next(StatusIssued, ActionCancel, stubDoc{})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, next)

	next, err = m.Next(StatusCancelled, ActionRestore, stubDoc{})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, next)
}

func TestMachineRejectsUndefinedEdges(t *testing.T) {
	m := testMachine()

	statuses := []Status{StatusDraft, StatusIssued, StatusCancelled}
	actions := []Action{ActionIssue, ActionCancel, ActionRestore, ActionConvert, ActionSend}

	for _, from := range statuses {
		for _, action := range actions {
			if m.Allowed(from, action) {
				continue
			}
			_, err := m.Next(from, action, stubDoc{})
			require.Error(t, err, "edge %s/%s", from, action)
			require.True(t, shared.IsDomain(err), "edge %s/%s should be a domain error", from, action)
		}
	}
}

func TestMachineGuardVetoes(t *testing.T) {
	m := testMachine()

	_, err := m.Next(StatusIssued, ActionCancel, stubDoc{locked: true})
	require.Error(t, err)
	require.True(t, shared.IsDomain(err))
	require.Contains(t, err.Error(), "locked")
}
