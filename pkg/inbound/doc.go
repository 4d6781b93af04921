// Package inbound converts received email, as delivered by ESP inbound
// webhooks, into a structured Message. The preferred path parses the raw
// MIME source when the provider supplies it; FromFields reassembles a
// message from pre-parsed provider fields when it does not.
package inbound
