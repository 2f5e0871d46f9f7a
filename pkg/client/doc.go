// Package client is the Go SDK for the document anchoring API.
//
// # Fingerprinting and anchoring
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(operatorToken),
//	)
//	f, _ := os.Open("lease.pdf")
//	d, err := c.Digest(ctx, "lease.pdf", "application/pdf", f)
//	receipt, err := c.Anchor(ctx, d.Hash)
//	fmt.Println(receipt.Account) // keep this address with the document
//
// Anchor spends ledger fees, so servers with operator auth enabled require a
// token carrying the anchor:write scope. Mint one with 'anchorctl token issue'.
//
// # Verifying
//
// Verification is public. A mismatch is a normal result, not an error:
//
//	res, err := c.Verify(ctx, "lease.pdf", f, receipt.Account)
//	if err != nil {
//	    log.Fatal(err) // transport or server failure
//	}
//	fmt.Println(res.Match, res.Reason)
//
// # Commitment lookups
//
// Commitments are write-once, so lookups can be cached:
//
//	c, _ := client.New(baseURL, client.WithCacheTTL(5*time.Minute))
//	rec, err := c.Commitment(ctx, account)
//	if errors.Is(err, client.ErrNotFound) { ... }
package client
