// Package esp holds the provider-agnostic plumbing shared by every ESP
// adapter: the PayloadBuilder contract and its build driver, the HTTP send
// client, the API error taxonomy, the canonical webhook event model, and the
// webhook verification/handler adapters.
//
// # Outbound
//
// One send is a pure pipeline: the canonical message snapshot is driven
// through a provider's PayloadBuilder in fixed dependency order
// (BuildRequest), the resulting Request is issued by the Client, and the
// provider's Backend parses the raw response into per-recipient statuses.
// Cross-provider invariants (merge data never combines with cc/bcc,
// tri-state tracking flags are omitted when unset) are enforced in the
// driver; everything provider-specific lives in pkg/esp/<provider>.
//
//	client := esp.NewClient()
//	backend, err := mailtrap.New(mailtrap.Config{APIToken: token})
//	statuses, err := client.Send(ctx, backend, msg)
//
// A send that is refused for every recipient returns ErrRecipientsRefused
// alongside the status map; partial failure is not an error — per-recipient
// statuses convey the mixed result. There are no retries anywhere in this
// package; retry policy belongs to the caller.
//
// # Webhooks
//
// Provider webhook parsers implement TrackingParser or InboundParser;
// TrackingHandler and InboundHandler adapt them into http.Handlers that
// verify authenticity before parsing, answer configuration-time GET probes,
// and respond 400 on any verification failure.
package esp
