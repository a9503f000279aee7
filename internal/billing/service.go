package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/ids"
	"deskbill.org/internal/money"
	"deskbill.org/internal/obs"
)

// Audit action labels emitted by billing mutations.
const (
	ActionServiceCreate     = "SERVICE_CREATE"
	ActionServiceUpdate     = "SERVICE_UPDATE"
	ActionTransactionCreate = "TRANSACTION_CREATE"
	ActionEntryAdd          = "ENTRY_ADD"
	ActionEntryUpdate       = "ENTRY_UPDATE"
)

// Service defines the billing surface: catalog management plus
// transactions and their entries.
type Service interface {
	CreateService(ctx context.Context, name, description string, unitPrice decimal.Decimal) (ServiceType, error)
	UpdateService(ctx context.Context, id string, patch ServicePatch) (ServiceType, error)
	GetService(ctx context.Context, id string) (ServiceType, error)
	ListServices(ctx context.Context) ([]ServiceType, error)

	CreateTransaction(ctx context.Context, subjectUserID, processedByID, term, schoolYear string) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	AddEntry(ctx context.Context, txID, serviceID string, quantity int) (Entry, error)
	SetEntryQuantity(ctx context.Context, txID, entryID string, quantity int) (Entry, error)
	SetEntryService(ctx context.Context, txID, entryID, serviceID string) (Entry, error)
}

// UserDirectory is the slice of the user directory billing needs: both
// transaction user references must resolve at creation time.
type UserDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// InMemory implements Service with in-process concurrency safety. Every
// successful mutation appends one audit entry attributed to the actor on
// the context before the state change is applied, so a failed audit
// append leaves no partial state behind.
type InMemory struct {
	mu       sync.RWMutex
	services map[string]*ServiceType
	svcOrder []string
	txs      map[string]*Transaction
	users    UserDirectory
	trail    audit.Trail
	now      func() time.Time
}

// NewInMemory creates a fresh billing service. trail may be nil to
// disable audit emission (tests of unrelated behavior).
func NewInMemory(users UserDirectory, trail audit.Trail) *InMemory {
	return &InMemory{
		services: make(map[string]*ServiceType),
		txs:      make(map[string]*Transaction),
		users:    users,
		trail:    trail,
		now:      time.Now,
	}
}

func (s *InMemory) record(ctx context.Context, action string) error {
	if s.trail == nil {
		return nil
	}
	_, err := s.trail.Record(ctx, audit.Actor(ctx), action)
	return err
}

func (s *InMemory) CreateService(ctx context.Context, name, description string, unitPrice decimal.Decimal) (ServiceType, error) {
	if name == "" {
		return ServiceType{}, fmt.Errorf("%w: service name is required", ErrInvalidArgument)
	}
	if money.IsNegative(unitPrice) {
		return ServiceType{}, fmt.Errorf("%w: unit price %s is negative", ErrInvalidArgument, unitPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(ctx, ActionServiceCreate); err != nil {
		return ServiceType{}, err
	}
	svc := &ServiceType{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		UnitPrice:   unitPrice.Round(money.Scale),
		CreatedAt:   s.now().UTC(),
	}
	s.services[svc.ID] = svc
	s.svcOrder = append(s.svcOrder, svc.ID)
	return *svc, nil
}

func (s *InMemory) UpdateService(ctx context.Context, id string, patch ServicePatch) (ServiceType, error) {
	if patch.Name != nil && *patch.Name == "" {
		return ServiceType{}, fmt.Errorf("%w: service name cannot be cleared", ErrInvalidArgument)
	}
	if patch.UnitPrice != nil && money.IsNegative(*patch.UnitPrice) {
		return ServiceType{}, fmt.Errorf("%w: unit price %s is negative", ErrInvalidArgument, *patch.UnitPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[id]
	if !ok {
		return ServiceType{}, fmt.Errorf("%w: service %s", ErrNotFound, id)
	}
	if err := s.record(ctx, ActionServiceUpdate); err != nil {
		return ServiceType{}, err
	}
	if patch.Name != nil {
		svc.Name = *patch.Name
	}
	if patch.Description != nil {
		svc.Description = *patch.Description
	}
	if patch.UnitPrice != nil {
		svc.UnitPrice = patch.UnitPrice.Round(money.Scale)
	}
	return *svc, nil
}

func (s *InMemory) GetService(ctx context.Context, id string) (ServiceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return ServiceType{}, fmt.Errorf("%w: service %s", ErrNotFound, id)
	}
	return *svc, nil
}

func (s *InMemory) ListServices(ctx context.Context) ([]ServiceType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]ServiceType, 0, len(s.svcOrder))
	for _, id := range s.svcOrder {
		res = append(res, *s.services[id])
	}
	return res, nil
}

func (s *InMemory) CreateTransaction(ctx context.Context, subjectUserID, processedByID, term, schoolYear string) (Transaction, error) {
	for _, ref := range []struct{ label, id string }{
		{"subject user", subjectUserID},
		{"processing user", processedByID},
	} {
		if ref.id == "" {
			return Transaction{}, fmt.Errorf("%w: %s is required", ErrInvalidArgument, ref.label)
		}
		ok, err := s.users.Exists(ctx, ref.id)
		if err != nil {
			return Transaction{}, err
		}
		if !ok {
			return Transaction{}, fmt.Errorf("%w: %s %s", ErrNotFound, ref.label, ref.id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Transaction{
		ID:            ids.NewPrefixed("TXN"),
		SubjectUserID: subjectUserID,
		ProcessedByID: processedByID,
		CreatedAt:     s.now().UTC(),
		Term:          term,
		SchoolYear:    schoolYear,
	}
	if _, dup := s.txs[tx.ID]; dup {
		// Unreachable with ULID generation, but financial records
		// must never be overwritten silently.
		return Transaction{}, fmt.Errorf("%w: transaction id %s", ErrConflict, tx.ID)
	}
	if err := s.record(ctx, ActionTransactionCreate); err != nil {
		return Transaction{}, err
	}
	s.txs[tx.ID] = tx
	obs.IncTransactionCreated()
	return copyTransaction(tx), nil
}

func (s *InMemory) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	return copyTransaction(tx), nil
}

func (s *InMemory) AddEntry(ctx context.Context, txID, serviceID string, quantity int) (Entry, error) {
	if quantity < 1 {
		return Entry{}, fmt.Errorf("%w: quantity %d must be >= 1", ErrInvalidArgument, quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[txID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	svc, ok := s.services[serviceID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
	}
	if err := s.record(ctx, ActionEntryAdd); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:            ids.New(),
		TransactionID: txID,
		ServiceID:     serviceID,
		Quantity:      quantity,
		UnitPrice:     svc.UnitPrice,
		Subtotal:      money.Line(svc.UnitPrice, quantity),
	}
	tx.Entries = append(tx.Entries, entry)
	obs.IncEntryMutation("add")
	return entry, nil
}

func (s *InMemory) SetEntryQuantity(ctx context.Context, txID, entryID string, quantity int) (Entry, error) {
	if quantity < 1 {
		return Entry{}, fmt.Errorf("%w: quantity %d must be >= 1", ErrInvalidArgument, quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.findEntry(txID, entryID)
	if err != nil {
		return Entry{}, err
	}
	svc, ok := s.services[entry.ServiceID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: service %s", ErrNotFound, entry.ServiceID)
	}
	if err := s.record(ctx, ActionEntryUpdate); err != nil {
		return Entry{}, err
	}

	// Quantity and subtotal change together under the lock; readers
	// never observe one without the other.
	entry.Quantity = quantity
	entry.UnitPrice = svc.UnitPrice
	entry.Subtotal = money.Line(svc.UnitPrice, quantity)
	obs.IncEntryMutation("quantity")
	return *entry, nil
}

func (s *InMemory) SetEntryService(ctx context.Context, txID, entryID, serviceID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.findEntry(txID, entryID)
	if err != nil {
		return Entry{}, err
	}
	svc, ok := s.services[serviceID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: service %s", ErrNotFound, serviceID)
	}
	if err := s.record(ctx, ActionEntryUpdate); err != nil {
		return Entry{}, err
	}

	entry.ServiceID = serviceID
	entry.UnitPrice = svc.UnitPrice
	entry.Subtotal = money.Line(svc.UnitPrice, entry.Quantity)
	obs.IncEntryMutation("service")
	return *entry, nil
}

// findEntry locates an entry within its owning transaction. Callers hold
// the service mutex.
func (s *InMemory) findEntry(txID, entryID string) (*Entry, error) {
	tx, ok := s.txs[txID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
	}
	for i := range tx.Entries {
		if tx.Entries[i].ID == entryID {
			return &tx.Entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: entry %s in transaction %s", ErrNotFound, entryID, txID)
}

func copyTransaction(tx *Transaction) Transaction {
	out := *tx
	out.Entries = make([]Entry, len(tx.Entries))
	copy(out.Entries, tx.Entries)
	return out
}
