// Package search picks a datasource for a single concept at a target grain.
//
// Direct mode ranks the base datasources that output the concept:
//
//  1. grain equal to the target
//  2. grain coarser than the target (a subset), joinable on its own grain
//  3. outputs every target grain component, so it can be grouped to it
//  4. anything else
//
// Ties go to the candidate covering more target grain components, then to
// the lower name. The winner is wrapped in a pass-through composite, or a
// grouped composite for case 3.
//
// Whole-grain mode builds a composite anchored on the datasource that best
// covers the target grain and walks the reference graph to join in every
// datasource needed to supply the concept and all grain components. Direct
// mode falls back to it when the best candidate is case 4.
package search
