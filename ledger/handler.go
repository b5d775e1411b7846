package ledger

import (
	"context"

	"gobridgeledger/acl"
	"gobridgeledger/bridgesvc"
	"gobridgeledger/types"
)

// ServicePrincipal is the resolver identity a backend completes operations as
func ServicePrincipal(backendID string) string {
	return "service:" + backendID
}

// MessageHandler completes the operation a verified inbound message refers to. The message must
// arrive through the backend the operation was routed to and carry the operation's recipient and
// amount.
func (l *Ledger) MessageHandler(backendID string) bridgesvc.Handler {
	principal := ServicePrincipal(backendID)
	l.roles.Grant(acl.RoleResolver, principal)

	return bridgesvc.HandlerFunc(func(ctx context.Context, msg *types.Message) error {
		op, err := l.GetOperation(ctx, msg.OperationID)
		if err != nil {
			return err
		}
		if op == nil {
			return types.Errorf(types.ErrOperationNotFound, "%s", msg.OperationID.Hex())
		}
		if op.BackendID != backendID {
			return types.Errorf(types.ErrInvalidProof, "operation %s is routed through %s, not %s", op.ID.Hex(), op.BackendID, backendID)
		}
		if msg.Amount == nil || msg.Amount.Cmp(op.Amount) != 0 || msg.Recipient != op.Recipient {
			return types.Errorf(types.ErrInvalidProof, "message does not match operation %s", op.ID.Hex())
		}
		_, err = l.Complete(ctx, principal, op.ID, msg.ID.Hex())
		return err
	})
}
