package rag

// isOwner reports whether the actor owns the workspace.
func isOwner(ws Workspace, actor Actor) bool {
	return ws.OwnerUserID == actor.UserID
}

// isSharedMember reports whether the actor appears in the workspace's
// explicit share list.
func isSharedMember(ws Workspace, actor Actor) bool {
	for _, id := range ws.SharedUserIDs {
		if id == actor.UserID {
			return true
		}
	}
	return false
}

// CanReadWorkspace decides whether actor may read ws's documents and
// conversations. An actor with no role set (the zero Actor, or a service
// principal that never populated Role) fails every check, even if it
// happens to own the workspace. ADMIN always can; the owner always can;
// everyone else depends on the workspace's visibility mode.
func CanReadWorkspace(ws Workspace, actor Actor) bool {
	if actor.Role == "" {
		return false
	}
	if actor.IsAdmin() {
		return true
	}
	if isOwner(ws, actor) {
		return true
	}
	if actor.Role != RoleEmployee {
		return false
	}
	switch ws.Visibility {
	case VisibilityOrgRead:
		return true
	case VisibilityShared:
		return isSharedMember(ws, actor)
	default:
		return false
	}
}

// CanWriteWorkspace decides whether actor may mutate ws (upload documents,
// edit its ACL, archive it). A role-less actor fails outright; otherwise
// only ADMIN and the owner ever can, since visibility never grants write
// access.
func CanWriteWorkspace(ws Workspace, actor Actor) bool {
	if actor.Role == "" {
		return false
	}
	return actor.IsAdmin() || isOwner(ws, actor)
}

// CanManageACL decides whether actor may grant or revoke ACL entries on ws.
// Identical to the write check: only the owner or an ADMIN manages sharing.
func CanManageACL(ws Workspace, actor Actor) bool {
	return CanWriteWorkspace(ws, actor)
}
