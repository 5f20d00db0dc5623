package gateway

import (
	"context"
	"fmt"
	"net/url"

	"recurrent-billing/internal/domain/model"
	"recurrent-billing/internal/domain/ports/adapter"
)

// BankTransferGateway is a one-off gateway: the customer is shown transfer
// instructions and the payment is settled when the transfer is matched by
// variable symbol. It declares no capabilities.
type BankTransferGateway struct {
	instructionsURL string
	account         string
}

func NewBankTransferGateway(instructionsURL, account string) *BankTransferGateway {
	return &BankTransferGateway{instructionsURL: instructionsURL, account: account}
}

func (g *BankTransferGateway) Code() string { return "bank_transfer" }

func (g *BankTransferGateway) Capabilities() adapter.CapabilitySet { return 0 }

func (g *BankTransferGateway) Begin(ctx context.Context, p *model.Payment) (adapter.BeginResult, error) {
	q := url.Values{}
	q.Set("vs", p.VariableSymbol)
	q.Set("amount", fmt.Sprint(p.Amount))
	q.Set("account", g.account)
	return adapter.BeginResult{RedirectURL: g.instructionsURL + "?" + q.Encode(), ExternalID: p.VariableSymbol}, nil
}

// Complete never settles: the customer returning from the instructions page
// says nothing about the transfer.
func (g *BankTransferGateway) Complete(ctx context.Context, p *model.Payment, params map[string]string) (adapter.CompleteResult, error) {
	return adapter.CompleteResult{Settlement: adapter.SettlementUnsettled, Code: "awaiting_transfer"}, nil
}
