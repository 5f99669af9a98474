package core

// CanRead reports whether the user may view the document and its live edit
// stream: true for the owner and for every collaborator.
func CanRead(userID string, doc *Document) bool {
	if doc == nil {
		return false
	}
	return doc.OwnerID == userID || doc.IsCollaborator(userID)
}

// CanWrite reports whether the user may edit and save the document. There are
// no read-only collaborators, so this is the same predicate as CanRead.
func CanWrite(userID string, doc *Document) bool {
	return CanRead(userID, doc)
}

// CanManage reports whether the user may rename, delete, share or unshare the
// document: owner only.
func CanManage(userID string, doc *Document) bool {
	return doc != nil && doc.OwnerID == userID
}
