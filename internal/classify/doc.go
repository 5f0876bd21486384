// Package classify maps stable files to destination folders using ordered
// "<regex> -> <folder>" rules. Patterns are matched against the file name
// only, the first matching rule wins, and the file is copied (never moved)
// into that rule's folder.
package classify
