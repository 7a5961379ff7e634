/*
Package log provides structured logging via zerolog.

Init must be called once at process start; Logger is the package-level
instance every other package logs through. WithTablet, WithLogStream, and
WithTx create child loggers carrying the matching identity fields so a
single grep on a tablet key or tx id surfaces every log line touching it.
*/
package log
