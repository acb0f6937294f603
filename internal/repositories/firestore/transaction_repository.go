package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopnest/api/internal/domain"
	pfirestore "github.com/shopnest/api/internal/platform/firestore"
	"github.com/shopnest/api/internal/repositories"
)

const transactionsCollection = "paymentTransactions"

// TransactionRepository implements repositories.TransactionRepository backed
// by Firestore. Documents are keyed by the provider checkout request ID, which
// makes duplicate inserts for the same push attempt fail as conflicts.
type TransactionRepository struct {
	provider     *pfirestore.Provider
	transactions *pfirestore.BaseRepository[domain.PaymentTransaction]
	orders       *pfirestore.BaseRepository[domain.Order]
}

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		provider:     provider,
		transactions: pfirestore.NewBaseRepository[domain.PaymentTransaction](provider, transactionsCollection, nil, nil),
		orders:       pfirestore.NewBaseRepository[domain.Order](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert persists a new pending transaction keyed by its checkout request ID.
func (r *TransactionRepository) Insert(ctx context.Context, txn domain.PaymentTransaction) error {
	if r == nil || r.provider == nil {
		return errors.New("transaction repository not initialised")
	}
	checkoutID := strings.TrimSpace(txn.CheckoutRequestID)
	if checkoutID == "" {
		return errors.New("checkout request id is required")
	}

	ref, err := r.transactions.DocumentRef(ctx, checkoutID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, txn); err != nil {
		return pfirestore.WrapError("transactions.insert", err)
	}
	return nil
}

// FindByCheckoutID fetches a transaction by its checkout request ID.
func (r *TransactionRepository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentTransaction, error) {
	doc, err := r.transactions.Get(ctx, strings.TrimSpace(checkoutRequestID))
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	txn := doc.Data
	txn.ID = doc.ID
	return txn, nil
}

// FindPendingByOrderID returns the open transaction for an order, if any.
func (r *TransactionRepository) FindPendingByOrderID(ctx context.Context, orderID string) (domain.PaymentTransaction, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.PaymentTransaction{}, pfirestore.WrapError("transactions.findpending", errors.New("order id is required"))
	}

	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).
			Where("status", "==", string(domain.TransactionPending)).
			Limit(1)
	})
	if err != nil {
		return domain.PaymentTransaction{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentTransaction{}, notFoundError("transactions.findpending", "no pending transaction for order "+id)
	}
	txn := docs[0].Data
	txn.ID = docs[0].ID
	return txn, nil
}

// Transition applies a terminal outcome to a pending transaction and advances
// the linked order in the same Firestore transaction. A transaction that is
// already terminal is returned unchanged with Applied=false, which makes
// duplicate webhook deliveries and webhook/poll races settle exactly once.
func (r *TransactionRepository) Transition(ctx context.Context, checkoutRequestID string, outcome repositories.PaymentOutcome) (repositories.TransitionResult, error) {
	if r == nil || r.provider == nil {
		return repositories.TransitionResult{}, errors.New("transaction repository not initialised")
	}
	checkoutID := strings.TrimSpace(checkoutRequestID)
	if checkoutID == "" {
		return repositories.TransitionResult{}, pfirestore.WrapError("transactions.transition", errors.New("checkout request id is required"))
	}
	if outcome.Status == domain.TransactionPending {
		return repositories.TransitionResult{}, pfirestore.WrapError("transactions.transition", errors.New("outcome status must be terminal"))
	}

	txnRef, err := r.transactions.DocumentRef(ctx, checkoutID)
	if err != nil {
		return repositories.TransitionResult{}, err
	}

	var result repositories.TransitionResult

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txnSnap, err := tx.Get(txnRef)
		if err != nil {
			return err
		}

		var txn domain.PaymentTransaction
		if err := txnSnap.DataTo(&txn); err != nil {
			return err
		}
		txn.ID = txnSnap.Ref.ID

		// All reads must happen before any writes inside a Firestore
		// transaction, so the order is fetched unconditionally.
		var order domain.Order
		var orderRef *firestore.DocumentRef
		if strings.TrimSpace(txn.OrderID) != "" {
			orderRef, err = r.orders.DocumentRef(ctx, txn.OrderID)
			if err != nil {
				return err
			}
			orderSnap, err := tx.Get(orderRef)
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			if err == nil {
				if err := orderSnap.DataTo(&order); err != nil {
					return err
				}
				order.ID = orderSnap.Ref.ID
			} else {
				orderRef = nil
			}
		}

		if txn.Terminal() {
			result = repositories.TransitionResult{Applied: false, Transaction: txn, Order: order}
			return nil
		}

		// At most one transaction may settle an order. A second success for an
		// already-paid order is finalised without credit: the receipt is kept
		// for refund reconciliation but the payment status stays off paid and
		// the order is left untouched.
		if orderRef != nil && outcome.PaymentStatus == domain.TransactionPaymentPaid && order.PaymentStatus == domain.OrderPaymentPaid {
			txn.Status = outcome.Status
			txn.PaymentStatus = domain.TransactionPaymentFailed
			code := outcome.ResultCode
			txn.ResultCode = &code
			txn.ResultDesc = "Order already settled by another transaction"
			txn.MpesaReceiptNumber = outcome.ReceiptNumber
			txn.TransactionDate = outcome.TransactionDate
			txn.UpdatedAt = outcome.ObservedAt
			if err := tx.Set(txnRef, txn); err != nil {
				return err
			}
			result = repositories.TransitionResult{Applied: false, Transaction: txn, Order: order}
			return nil
		}

		txn.Status = outcome.Status
		txn.PaymentStatus = outcome.PaymentStatus
		code := outcome.ResultCode
		txn.ResultCode = &code
		txn.ResultDesc = outcome.ResultDesc
		txn.MpesaReceiptNumber = outcome.ReceiptNumber
		txn.TransactionDate = outcome.TransactionDate
		txn.UpdatedAt = outcome.ObservedAt
		if outcome.Status == domain.TransactionCompleted {
			completedAt := outcome.ObservedAt
			txn.CompletedAt = &completedAt
		}

		if err := tx.Set(txnRef, txn); err != nil {
			return err
		}

		if orderRef != nil {
			if outcome.PaymentStatus == domain.TransactionPaymentPaid {
				order.Status = domain.OrderStatusConfirmed
				order.PaymentStatus = domain.OrderPaymentPaid
				paidAt := outcome.ObservedAt
				order.PaidAt = &paidAt
				if outcome.ReceiptNumber != "" {
					order.AdminNotes = append(order.AdminNotes, domain.OrderNote{
						Text:      "Payment received. M-Pesa receipt " + outcome.ReceiptNumber,
						CreatedAt: outcome.ObservedAt,
					})
				}
			} else {
				order.PaymentStatus = domain.OrderPaymentFailed
			}
			order.UpdatedAt = outcome.ObservedAt
			if err := tx.Set(orderRef, order); err != nil {
				return err
			}
		}

		result = repositories.TransitionResult{Applied: true, Transaction: txn, Order: order}
		return nil
	})
	if err != nil {
		return repositories.TransitionResult{}, pfirestore.WrapError("transactions.transition", err)
	}
	return result, nil
}
