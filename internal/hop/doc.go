// Package hop holds the types shared by the hop scheduler and its collaborators:
// item identifiers, pool descriptors, run configuration and the flat parameter
// form used by the browser extension, the CLI and persisted "last params".
package hop
