// Package client is the DigiPin Go SDK.
//
// It wraps the registry's HTTP API: offline-style DigiPin encoding and
// decoding, consent-gated resolution of digital addresses, delivery
// feedback, confidence reports and audit-ledger verification.
//
// # Resolving an address
//
// Resolution is public but consent-gated. Either the owner's UPI PIN or a
// consent token the owner shared is required:
//
//	c, _ := client.New("https://registry.digipin.example")
//	res, err := c.Resolve(ctx, "asha@home", pin, "acme-logistics")
//	if err != nil {
//	    var apiErr *client.APIError
//	    if errors.As(err, &apiErr) {
//	        log.Printf("outcome=%s audit_key=%s", apiErr.Outcome, apiErr.AuditKey)
//	    }
//	    return err
//	}
//	fmt.Println(res.DigiPin, res.Latitude, res.Longitude)
//
// Every attempt, failed or not, is written to the registry's audit ledger.
// The returned audit key can later be checked with VerifyAuditEntry.
//
// # Reporting delivery outcomes
//
//	change, _ := c.Feedback(ctx, "asha@home", "SUCCESS", "acme-logistics")
//	fmt.Println(change.Change.NewScore)
//
// # Owner operations
//
// Signup and Login attach the session token to the client, after which
// CreateAddress, ListAddresses, RevokeConsent and History are available:
//
//	c.Login(ctx, "+919876543210", password)
//	res, _ := c.CreateAddress(ctx, client.CreateAddressRequest{
//	    Suffix:    "home",
//	    Latitude:  28.6139,
//	    Longitude: 77.2090,
//	    Address:   "12 Janpath, New Delhi",
//	    PIN:       pin,
//	})
//	// res.Consent.Token is shown once; share it with trusted services.
//
// Decode results never change for a given code and can be cached with
// WithCacheTTL. Resolutions are not cached.
package client
