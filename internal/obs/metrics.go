package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Core operation counters. Labels stay low-cardinality: outcomes and
// entity kinds only, never ids.
var (
	transactionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_transactions_created_total",
		Help: "Billing transactions created.",
	})

	entryMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_entry_mutations_total",
			Help: "Ledger entry mutations by kind (add, quantity, service).",
		},
		[]string{"kind"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	auditAppends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audit_entries_total",
		Help: "Audit trail entries appended.",
	})
)

var initOnce sync.Once

// Init registers the core metrics in the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(transactionsCreated, entryMutations, authAttempts, auditAppends)
	})
}

func IncTransactionCreated() { transactionsCreated.Inc() }

func IncEntryMutation(kind string) { entryMutations.WithLabelValues(kind).Inc() }

func IncAuthAttempt(outcome string) { authAttempts.WithLabelValues(outcome).Inc() }

func IncAuditAppend() { auditAppends.Inc() }
