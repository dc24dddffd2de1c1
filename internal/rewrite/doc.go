// Package rewrite contains the pure transformations applied to upstream
// responses so that both origins appear as the single public domain: host
// substitution in text bodies, Location and Set-Cookie rewriting, the
// content-type gate for body rewriting, Cache-Control policy and the baseline
// security headers. Callers own all I/O; functions here only map strings.
package rewrite
