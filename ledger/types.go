/*
Package ledger provides the double-entry account ledger behind the
commission engine.

PURPOSE:
  This package knows nothing about commissions or collectors. It holds
  accounts, moves value between them, and guarantees that every movement
  changes exactly two balances by the same magnitude. The commission and
  remuneration packages describe WHAT moves; this package decides HOW it
  is committed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: One record per (owner, account type), running signed balance
  - AccountType: Classification tag (client, passage-commission, salary, ...)
  - Owner: The agency, collector or client an account belongs to
  - Movement: Immutable source -> destination transfer of a positive amount

DESIGN PRINCIPLES:
  1. Conservation: a movement debits source and credits destination by the
     same amount, so the sum of all balances never changes
  2. Append-only: movements are never edited or deleted
  3. Precision: decimal.Decimal, rounded half-up to 2 places at every step
  4. One record type: specialized accounts differ only by their type tag

USAGE:
  chart := ledger.NewChart(store)
  src, _ := chart.GetOrCreate(ctx, ledger.ClientOwner("cli-1"), ledger.AccountClient)
  dst, _ := chart.GetOrCreate(ctx, ledger.CollectorOwner("col-1"), ledger.AccountPassageCommission)
  mv, err := poster.Post(ctx, ledger.MovementRequest{Source: src.ID, Destination: dst.ID, Amount: amt})

SEE ALSO:
  - movement.go: Atomic movement commit (Poster)
  - accounts.go: Chart of accounts get-or-create
  - store.go: Persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type MovementID string

// =============================================================================
// OWNER - Exactly one agency, collector or client
// =============================================================================

type OwnerKind string

const (
	OwnerAgency    OwnerKind = "agency"
	OwnerCollector OwnerKind = "collector"
	OwnerClient    OwnerKind = "client"
)

var ownerCodes = map[OwnerKind]string{
	OwnerAgency:    "AGY",
	OwnerCollector: "COL",
	OwnerClient:    "CLT",
}

// Owner references the single entity an account belongs to.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func AgencyOwner(id string) Owner    { return Owner{Kind: OwnerAgency, ID: id} }
func CollectorOwner(id string) Owner { return Owner{Kind: OwnerCollector, ID: id} }
func ClientOwner(id string) Owner    { return Owner{Kind: OwnerClient, ID: id} }

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID }

// Valid reports whether the owner is fully specified.
func (o Owner) Valid() bool {
	switch o.Kind {
	case OwnerAgency, OwnerCollector, OwnerClient:
		return o.ID != ""
	}
	return false
}

// =============================================================================
// ACCOUNT
// =============================================================================

type AccountType string

const (
	AccountClient            AccountType = "client"
	AccountCollectorService  AccountType = "collector_service"
	AccountCollectorSalary   AccountType = "collector_salary"
	AccountPassageCommission AccountType = "passage_commission"
	AccountPassageTax        AccountType = "passage_tax"
	AccountCharge            AccountType = "charge"
	AccountProduct           AccountType = "product"
	AccountTax               AccountType = "tax"
	AccountWaiting           AccountType = "waiting"
	AccountLiaison           AccountType = "liaison"
)

// accountCodes is the prefix used in generated account numbers.
var accountCodes = map[AccountType]string{
	AccountClient:            "CLI",
	AccountCollectorService:  "SRV",
	AccountCollectorSalary:   "SAL",
	AccountPassageCommission: "PCM",
	AccountPassageTax:        "PTX",
	AccountCharge:            "CHG",
	AccountProduct:           "PRD",
	AccountTax:               "TAX",
	AccountWaiting:           "WAT",
	AccountLiaison:           "LIA",
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	_, ok := accountCodes[t]
	return ok
}

// AccountNumber is deterministic in (owner, type): the same pair always
// yields the same number, which makes the number itself a uniqueness key.
func AccountNumber(owner Owner, t AccountType) string {
	code, ok := accountCodes[t]
	if !ok {
		code = "UNK"
	}
	return fmt.Sprintf("%s-%s-%s", code, ownerCodes[owner.Kind], owner.ID)
}

type Account struct {
	ID        AccountID
	Number    string
	Type      AccountType
	Owner     Owner
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// =============================================================================
// MOVEMENT - Immutable paired debit/credit
// =============================================================================

// Direction tags what a movement is for. It never changes how balances move.
type Direction string

const (
	DirCommission   Direction = "commission"
	DirClientTax    Direction = "client_tax"
	DirRemuneration Direction = "remuneration"
	DirDeficit      Direction = "deficit"
	DirSurplus      Direction = "surplus"
	DirTax          Direction = "tax"
	DirAdjustment   Direction = "adjustment"
)

type Movement struct {
	ID          MovementID
	Source      AccountID
	Destination AccountID
	Amount      decimal.Decimal
	Label       string
	Direction   Direction
	Reference   string // calculation or remuneration this movement belongs to
	CreatedAt   time.Time
}

// MovementRequest is what callers ask the Poster to commit.
type MovementRequest struct {
	Source      AccountID
	Destination AccountID
	Amount      decimal.Decimal
	Label       string
	Direction   Direction
	Reference   string
}
