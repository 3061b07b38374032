// Package broadcast routes frames to the members of a session.
//
// The Router keeps a member → Handle table populated by the gateway and reads
// session membership through the Membership interface. It never blocks on a
// slow recipient: a Handle that cannot queue a frame is reported back as
// dropped and the gateway decides what to do with that connection.
package broadcast
