// Package asyncstorage exposes a synchronous host key-value store through the
// mobile async storage contract: getItem, setItem, removeItem, clear and
// getAllKeys, each returning a completion handle.
//
// Reads never fail: a host failure is logged as a warning and reported as a
// miss. Writes, removals, clears and key listings log the same warning and
// then settle their handle with an *OpError.
package asyncstorage
