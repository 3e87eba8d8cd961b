// Package device defines the contract between the connection core and the BLE radio stack.
//
// The core never talks to a BLE stack directly. It drives a Radio, which issues connect, discover,
// read, write, subscribe and scan operations against a physical peripheral and reports asynchronous
// connection status changes back over channels. The package also carries the shared value types
// (services, characteristics, scan results), the error taxonomy and UUID canonicalization helpers.
package device
