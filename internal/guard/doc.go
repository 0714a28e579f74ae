// Package guard keeps results inside the workspace root.
//
// The root is canonicalized once (absolute, symlinks resolved). A path is
// allowed when its canonical form is the root or lies beneath it, so a
// symlink inside the workspace that points elsewhere is rejected. Relative
// paths resolve against the root; paths that cannot be resolved are rejected.
//
// # Basic Usage
//
//	g, err := guard.New("/path/to/workspace")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := g.Check("docs/../../etc/passwd"); err != nil {
//	    // *types.SecurityViolation
//	}
//
//	results = g.Filter(results)
//
// Rejections are logged at warning level as *types.SecurityViolation and the
// offending item is dropped; Filter and AllowDocument never return errors.
package guard
