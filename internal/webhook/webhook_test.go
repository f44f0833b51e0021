package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"tally/internal/ledger"
	"tally/internal/webhook"
	dErrors "tally/pkg/domain-errors"
)

// =============================================================================
// Webhook Parsing and Signature Test Suite
// =============================================================================

type WebhookSuite struct {
	suite.Suite
}

func TestWebhookSuite(t *testing.T) {
	suite.Run(t, new(WebhookSuite))
}

func (s *WebhookSuite) TestParse() {
	s.Run("charge succeeded", func() {
		evt, err := webhook.Parse([]byte(`{"event_id":"evt-1","type":"charge.succeeded","transaction_id":"tx-1"}`))
		s.Require().NoError(err)
		s.Equal("evt-1", evt.EventID)

		ledgerEvent, ok := evt.Type.LedgerEvent()
		s.True(ok)
		s.Equal(ledger.EventChargeCompleted, ledgerEvent)
	})

	s.Run("refund requires refund_id", func() {
		evt, err := webhook.Parse([]byte(`{"event_id":"evt-2","type":"refund.succeeded","transaction_id":"tx-1","refund_id":"prf-1"}`))
		s.Require().NoError(err)
		s.Equal("prf-1", evt.RefundID)

		_, err = webhook.Parse([]byte(`{"event_id":"evt-3","type":"refund.succeeded","transaction_id":"tx-1"}`))
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))

		_, err = webhook.Parse([]byte(`{"event_id":"evt-3b","type":"refund.failed","transaction_id":"tx-1"}`))
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})

	s.Run("refund failed maps to the reopening event", func() {
		evt, err := webhook.Parse([]byte(`{"event_id":"evt-2b","type":"refund.failed","transaction_id":"tx-1","refund_id":"prf-2"}`))
		s.Require().NoError(err)

		ledgerEvent, ok := evt.Type.LedgerEvent()
		s.True(ok)
		s.Equal(ledger.EventRefundFailed, ledgerEvent)
	})

	s.Run("rejections", func() {
		cases := map[string]string{
			"not json":            `{`,
			"missing event id":    `{"type":"charge.succeeded","transaction_id":"tx-1"}`,
			"missing transaction": `{"event_id":"evt-4","type":"charge.succeeded"}`,
			"unknown type":        `{"event_id":"evt-5","type":"charge.disputed","transaction_id":"tx-1"}`,
		}
		for name, raw := range cases {
			_, err := webhook.Parse([]byte(raw))
			s.Require().Error(err, name)
			s.True(dErrors.Is(err, dErrors.CodeValidation), name)
		}
	})
}

func (s *WebhookSuite) TestVerifier() {
	verifier, err := webhook.NewVerifier("whsec_unit")
	s.Require().NoError(err)

	payload := []byte(`{"event_id":"evt-sig-1"}`)

	s.Run("round trip", func() {
		s.NoError(verifier.Verify(payload, verifier.Sign(payload)))
	})

	s.Run("tampered payload fails", func() {
		sig := verifier.Sign(payload)
		err := verifier.Verify([]byte(`{"event_id":"evt-sig-2"}`), sig)
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthenticated))
	})

	s.Run("wrong key fails", func() {
		other, err := webhook.NewVerifier("whsec_other")
		s.Require().NoError(err)
		err = verifier.Verify(payload, other.Sign(payload))
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthenticated))
	})

	s.Run("garbage signature fails", func() {
		err := verifier.Verify(payload, "not-hex")
		s.Require().Error(err)
		s.True(dErrors.Is(err, dErrors.CodeUnauthenticated))
	})

	s.Run("empty secret is refused", func() {
		_, err := webhook.NewVerifier("")
		s.Error(err)
	})
}

func (s *WebhookSuite) TestHashPayload() {
	first := webhook.HashPayload([]byte("payload-a"))
	second := webhook.HashPayload([]byte("payload-a"))
	other := webhook.HashPayload([]byte("payload-b"))

	s.Equal(first, second)
	s.NotEqual(first, other)
	s.Len(first, 64)
}
