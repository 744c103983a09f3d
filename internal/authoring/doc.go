// Package authoring is the authoring context: the only owner of the live
// patch. A Session posts structured copies of the patch to the evaluation
// context, applies the events that come back and runs the operators that
// must live next to the user, such as print and the interface widgets.
package authoring
