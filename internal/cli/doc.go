// Package cli implements vaultctl, the admin command line over the drive
// services. Every command prints JSON to its writer.
//
// Commands that act on one entity take its id and try it as a folder first,
// then as a file.
package cli
