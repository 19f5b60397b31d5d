// Package clamav scans uploaded files with a ClamAV daemon using the
// INSTREAM protocol and deletes the ones that carry malware.
//
// The Client frames a byte stream as length-prefixed chunks, bounded by a
// maximum scan length, and returns the daemon's reply. Interpret maps the
// reply to a Verdict. The Scanner ties both to a FileStore, a Notifier and an
// EventBus; it fails open, so an unreachable daemon never blocks uploads.
//
// Only INSTREAM is implemented. PING, VERSION, MULTISCAN and daemon
// administration commands are not.
//
// # Quick Start
//
//	client := clamav.NewClient()
//	cfg := clamav.ResolveConfig(settings)
//
//	f, err := os.Open("/path/to/file.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Close()
//
//	outcome, err := client.Scan(ctx, cfg, f)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Verdict: %s, Reply: %s\n", outcome.Verdict, outcome.Detail())
package clamav
