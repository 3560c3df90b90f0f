// Package client is the Go SDK for the handoff API.
//
// It covers both sides of a handoff: the principal that activates a session
// and shares its secret, and the delivery actor that proves presence by
// signing a challenge bound to that secret.
//
// # Principal side
//
//	c, _ := client.New("https://handoff.example.com")
//	sess, err := c.ActivateSession(ctx, client.ActivateRequest{
//	    PrincipalID: "cus_1",
//	    SubjectID:   "ord_1",
//	    TTL:         15 * time.Minute,
//	})
//	// hand sess.Secret to the actor over the short-range channel
//
// # Actor side
//
// Load the actor's private key once, then Prove fetches a challenge, seals
// the proof message and submits it in one step:
//
//	signer, _ := client.LoadSigner("dp_1", os.ExpandEnv("$HOME/.handoff/keys/dp_1.pem"))
//	res, err := c.Prove(ctx, signer, sess.SessionID, secret, nil)
//	fmt.Println(res.EventID, res.AnchorState)
//
// # Audit
//
//	report, err := c.VerifyEvent(ctx, res.EventID)
//	if !report.HashMatches || !report.SignatureValid { ... }
//
// # Admin routes
//
// Revoking identities and forcing a re-anchor require an admin token. With
// WithAdminSecret the client exchanges the secret for a token on first use
// and refreshes it shortly before expiry.
package client
