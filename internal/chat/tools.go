package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mobilemoney/internal/database"
	"mobilemoney/internal/llm"
	"mobilemoney/internal/syncengine"
)

// ErrSpeculativeWrite is returned when a write tool is invoked as part of
// a speculative plan rather than a confirmed user action.
var ErrSpeculativeWrite = errors.New("write tools cannot run as part of a speculative plan")

// ToolContext carries the per-call state a handler needs beyond its
// arguments: whose turn this is, and whether the caller has confirmed an
// actual intent to act (as opposed to the model merely exploring options).
type ToolContext struct {
	UserID      string
	Confirmed   bool
	Speculative bool
}

// Tool is the {name, description, inputSchema, handler} tuple the
// registry exposes to the LLM. Write marks tools that require an
// explicit confirmed intent and must refuse inside a speculative plan.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Write       bool
	Handler     func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error)
}

// Registry is C11: the fixed-at-startup set of tools the chat
// orchestrator dispatches model-selected calls to.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Schemas projects the registry into the wire format llm.Provider sends
// to the model.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llm.ToolSchema{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out
}

// Dispatch runs a named tool's handler, refusing write tools called as
// part of a speculative plan regardless of what the handler itself would do.
func (r *Registry) Dispatch(ctx context.Context, tc ToolContext, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if t.Write && tc.Speculative {
		return "", ErrSpeculativeWrite
	}
	if t.Write && !tc.Confirmed {
		return "", fmt.Errorf("%s requires explicit user confirmation", name)
	}
	return t.Handler(ctx, tc, args)
}

// NewDomainRegistry builds the fixed C11 registry over the sync engine's
// ledger, conflict store, and chain-state store.
func NewDomainRegistry(db *database.DB, ledgerRepo *database.LedgerRepository, ledger *syncengine.Ledger, conflicts *syncengine.ConflictStore, chainStates *syncengine.ChainStateStore) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Name:        "transaction-query",
		Description: "List a user's recent ledger entries (debits and credits).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"limit": map[string]any{"type": "integer"}},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				Limit int `json:"limit"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if in.Limit <= 0 || in.Limit > 50 {
				in.Limit = 10
			}
			entries, err := ledgerRepo.ListByUser(ctx, db.Pool(), tc.UserID, in.Limit)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(entries)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	})

	r.Register(Tool{
		Name:        "statement-generator",
		Description: "Generate a plain-text statement of a user's ledger entries over the last N days.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"days": map[string]any{"type": "integer"}},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				Days int `json:"days"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if in.Days <= 0 || in.Days > 365 {
				in.Days = 30
			}
			since := time.Now().AddDate(0, 0, -in.Days)
			entries, err := ledgerRepo.ListSinceByUser(ctx, db.Pool(), tc.UserID, since)
			if err != nil {
				return "", err
			}
			statement := fmt.Sprintf("Statement for the last %d days: %d entries.", in.Days, len(entries))
			for _, e := range entries {
				statement += fmt.Sprintf("\n%s  %s  %s  balance_after=%s",
					e.CreatedAt.Format(time.RFC3339), e.Type, syncengine.FormatAmountMinor(e.AmountMinor), syncengine.FormatAmountMinor(e.BalanceAfter))
			}
			return statement, nil
		},
	})

	r.Register(Tool{
		Name:        "savings-calculator",
		Description: "Project a user's balance after saving a fixed monthly amount for N months.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"monthly_amount": map[string]any{"type": "string"},
				"months":         map[string]any{"type": "integer"},
			},
			"required": []string{"monthly_amount", "months"},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				MonthlyAmount string `json:"monthly_amount"`
				Months        int    `json:"months"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			monthly, err := syncengine.ParseAmountMinor(in.MonthlyAmount)
			if err != nil {
				return "", err
			}
			balance, err := ledger.Balance(ctx, db.Pool(), tc.UserID)
			if err != nil {
				return "", err
			}
			projected := balance + monthly*int64(in.Months)
			return fmt.Sprintf("Saving %s/month for %d months from a balance of %s projects to %s.",
				syncengine.FormatAmountMinor(monthly), in.Months, syncengine.FormatAmountMinor(balance), syncengine.FormatAmountMinor(projected)), nil
		},
	})

	r.Register(Tool{
		Name:        "budget-assistant",
		Description: "Summarise a user's spend by ledger entry category over the last N days.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"days": map[string]any{"type": "integer"}},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				Days int `json:"days"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			if in.Days <= 0 || in.Days > 365 {
				in.Days = 30
			}
			since := time.Now().AddDate(0, 0, -in.Days)
			entries, err := ledgerRepo.ListSinceByUser(ctx, db.Pool(), tc.UserID, since)
			if err != nil {
				return "", err
			}
			byCategory := make(map[string]int64)
			for _, e := range entries {
				if e.Type == database.Debit {
					byCategory[e.Category] += e.AmountMinor
				}
			}
			out, err := json.Marshal(byCategory)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	})

	r.Register(Tool{
		Name:        "send-money",
		Description: "Transfer money from the current user to a recipient phone number. Requires confirmed intent.",
		Write:       true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient_phone": map[string]any{"type": "string"},
				"amount":          map[string]any{"type": "string"},
			},
			"required": []string{"recipient_phone", "amount"},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				RecipientPhone string `json:"recipient_phone"`
				Amount         string `json:"amount"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			amount, err := syncengine.ParseAmountMinor(in.Amount)
			if err != nil {
				return "", err
			}
			tx, err := db.BeginTx(ctx)
			if err != nil {
				return "", err
			}
			defer func() { _ = tx.Rollback(ctx) }()

			result, err := ledger.Transfer(ctx, tx, syncengine.NewID(), tc.UserID, in.RecipientPhone, amount, "CHAT-"+syncengine.NewID())
			if err != nil {
				return "", err
			}
			if err := tx.Commit(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("Sent %s to %s. New balance: %s.",
				syncengine.FormatAmountMinor(amount), in.RecipientPhone, syncengine.FormatAmountMinor(result.NewSenderBalance)), nil
		},
	})

	r.Register(Tool{
		Name:        "pay-bill",
		Description: "Pay a biller account from the current user's balance. Requires confirmed intent.",
		Write:       true,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"biller_code": map[string]any{"type": "string"},
				"amount":      map[string]any{"type": "string"},
			},
			"required": []string{"biller_code", "amount"},
		},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			var in struct {
				BillerCode string `json:"biller_code"`
				Amount     string `json:"amount"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			amount, err := syncengine.ParseAmountMinor(in.Amount)
			if err != nil {
				return "", err
			}
			billerAccount := "BILLER-" + in.BillerCode

			tx, err := db.BeginTx(ctx)
			if err != nil {
				return "", err
			}
			defer func() { _ = tx.Rollback(ctx) }()

			result, err := ledger.Transfer(ctx, tx, syncengine.NewID(), tc.UserID, billerAccount, amount, "CHAT-"+syncengine.NewID())
			if err != nil {
				return "", err
			}
			if err := tx.Commit(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("Paid %s to biller %s. New balance: %s.",
				syncengine.FormatAmountMinor(amount), in.BillerCode, syncengine.FormatAmountMinor(result.NewSenderBalance)), nil
		},
	})

	r.Register(Tool{
		Name:        "offline-query",
		Description: "Explain a user's unresolved offline sync conflicts. Chain validity is not reported.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(ctx context.Context, tc ToolContext, args json.RawMessage) (string, error) {
			unresolved, err := conflicts.ListUnresolved(ctx, db.Pool(), tc.UserID)
			if err != nil {
				return "", err
			}
			if len(unresolved) == 0 {
				return "No unresolved sync conflicts for this user.", nil
			}
			explanation := fmt.Sprintf("%d unresolved sync conflict(s):", len(unresolved))
			for _, c := range unresolved {
				explanation += "\n- " + c.Description
			}
			return explanation, nil
		},
	})

	return r
}
