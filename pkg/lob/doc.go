// Package lob routes large-object column values through out-of-row
// chunk storage or inline, per the tablet service's DML contract.
package lob
