// Package secure keeps raw secret values in process memory only.
//
// Values are sealed in memguard enclaves (XSalsa20Poly1305, mlocked where the
// platform allows) and opened into locked buffers just long enough to be
// read. ValueCache is the process-lifetime name to value map used by the
// secret store; nothing in this package writes to disk.
//
// Call memguard.Purge() on exit to wipe everything that is left.
package secure
