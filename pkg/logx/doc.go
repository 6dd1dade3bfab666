// Package logx is tabhop's structured logging facade over zerolog.
//
// Console output goes to stderr in a short human format, the optional file
// sink gets JSON lines, and stdout is never written so the native-messaging
// channel stays clean.
package logx
