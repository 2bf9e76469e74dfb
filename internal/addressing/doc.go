// Package addressing classifies and decomposes raw target addresses.
//
// The resolver is pure and stateless: it never touches storage. It decides
// whether an address names a resource on this CSE or on a federation peer,
// and reduces local addresses to either an unstructured resource-ID or a
// structured path for the store's identifier mapping to resolve.
//
// The grammar has four mutually exclusive forms, decided by counting leading
// "/" separators:
//
//	cnt-42 or cse-in/app/cnt     CSE-relative (unstructured / structured)
//	/id-in/cnt-42                SP-relative
//	//sp.example/id-in/cnt-42    absolute
//
// Three or more leading separators are invalid. A trailing virtual-resource
// segment (la, ol, fopt, pcu) is stripped before classification and recorded
// in the result; the "-" placeholder stands for the local CSE's resource
// name and is substituted only when the address targets the local CSE.
package addressing
