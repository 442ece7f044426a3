// Package protocol defines the JSON frames exchanged over a session's event
// channel. Inbound frames carry a "type" discriminator; the only outbound
// frame is a user message. The session id is part of the connection address,
// never the frame body.
package protocol
