package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

func TestCustomActionTwoPhase(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(store, testConfigs())
	gateway := NewCustomActionGateway(svc)
	u1 := officer("u1")

	created, err := svc.Create(ctx, domain.CreateInput{Type: "birth", TransactionID: "tx-1"}, u1)
	require.NoError(t, err)

	payload := CustomActionPayload{Annotation: domain.Fields{"idNumber": domain.String("LT-123")}}
	doc, err := gateway.RequestCustomAction(ctx, created.ID, "VERIFY_ID", payload, "tx-verify", u1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, doc.Status)
	requested := doc.Actions[len(doc.Actions)-1]
	assert.Equal(t, domain.ActionCustom, requested.Type)
	assert.Equal(t, "VERIFY_ID", requested.CustomActionType)
	assert.Equal(t, domain.ActionStatusRequested, requested.Status)
	_, annotated := doc.Annotation["idNumber"]
	assert.False(t, annotated, "requested actions do not change projections")
	assert.Contains(t, store.topics(), "confirmation.birth.VERIFY_ID")

	retried, err := gateway.RequestCustomAction(ctx, created.ID, "VERIFY_ID", payload, "tx-verify", u1)
	require.NoError(t, err)
	assert.Len(t, retried.Actions, len(doc.Actions))

	accepted, err := svc.FinalizeAction(ctx, requested.ID, domain.FinalizeAccept, nil, confirmer())
	require.NoError(t, err)
	fin := accepted.Actions[len(accepted.Actions)-1]
	assert.Equal(t, requested.ID, fin.OriginalActionID)
	assert.Equal(t, domain.ActionStatusAccepted, fin.Status)
	assert.Equal(t, "LT-123", accepted.Annotation["idNumber"].String())

	same, err := svc.FinalizeAction(ctx, requested.ID, domain.FinalizeAccept, nil, confirmer())
	require.NoError(t, err)
	assert.Len(t, same.Actions, len(accepted.Actions))

	_, err = svc.FinalizeAction(ctx, requested.ID, domain.FinalizeReject, nil, confirmer())
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestFinalizeRules(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), testConfigs())
	u1 := officer("u1")

	created, err := svc.Create(ctx, domain.CreateInput{Type: "birth", TransactionID: "tx-1"}, u1)
	require.NoError(t, err)

	_, err = svc.FinalizeAction(ctx, created.Actions[0].ID, domain.FinalizeAccept, nil, u1)
	require.ErrorIs(t, err, domain.ErrForbidden, "officers without record.confirm cannot finalize")

	_, err = svc.FinalizeAction(ctx, created.Actions[0].ID, domain.FinalizeAccept, nil, confirmer())
	require.ErrorIs(t, err, domain.ErrIllegalTransition, "accepted actions are not awaiting confirmation")

	_, err = svc.FinalizeAction(ctx, "nope", domain.FinalizeAccept, nil, confirmer())
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.FinalizeAction(ctx, created.Actions[0].ID, domain.FinalizeOutcome("Maybe"), nil, confirmer())
	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestFinalizeRejectLeavesProjection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), testConfigs())
	gateway := NewCustomActionGateway(svc)
	u1 := officer("u1")

	created, err := svc.Create(ctx, domain.CreateInput{Type: "birth", TransactionID: "tx-1"}, u1)
	require.NoError(t, err)
	doc, err := gateway.RequestCustomAction(ctx, created.ID, "VERIFY_ID", CustomActionPayload{
		Annotation: domain.Fields{"idNumber": domain.String("LT-123")},
	}, "tx-verify", u1)
	require.NoError(t, err)

	rejected, err := svc.FinalizeAction(ctx, doc.Actions[len(doc.Actions)-1].ID, domain.FinalizeReject, nil, confirmer())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCreated, rejected.Status)
	_, annotated := rejected.Annotation["idNumber"]
	assert.False(t, annotated)
}

func TestCustomActionMustBeConfigured(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), testConfigs())
	gateway := NewCustomActionGateway(svc)
	u1 := officer("u1")

	created, err := svc.Create(ctx, domain.CreateInput{Type: "birth", TransactionID: "tx-1"}, u1)
	require.NoError(t, err)

	_, err = gateway.RequestCustomAction(ctx, created.ID, "TELEPORT", CustomActionPayload{}, "tx-x", u1)
	require.ErrorIs(t, err, domain.ErrBadRequest)

	noNote := domain.Actor{ID: "u1", Scopes: []string{domain.ScopeRecordRead}}
	_, err = gateway.RequestCustomAction(ctx, created.ID, "ADD_NOTE", CustomActionPayload{}, "tx-y", noNote)
	require.ErrorIs(t, err, domain.ErrForbidden)

	doc, err := gateway.RequestCustomAction(ctx, created.ID, "ADD_NOTE", CustomActionPayload{
		Annotation: domain.Fields{"note": domain.String("called the mother")},
	}, "tx-z", u1)
	require.NoError(t, err)
	assert.Equal(t, "called the mother", doc.Annotation["note"].String())
}

func TestCustomActionsAvailable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore(), testConfigs())
	gateway := NewCustomActionGateway(svc)

	created, err := svc.Create(ctx, domain.CreateInput{Type: "birth", TransactionID: "tx-1"}, officer("u1"))
	require.NoError(t, err)

	got, err := gateway.Available(ctx, created.ID, officer("u1"))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = gateway.Available(ctx, created.ID, officer("u2"))
	require.NoError(t, err)
	assert.Empty(t, got, "custom actions need the assignment")
}
