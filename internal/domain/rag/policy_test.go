package rag

import "testing"

func TestCanReadWorkspace(t *testing.T) {
	owner := Actor{UserID: 1, Role: RoleEmployee}
	other := Actor{UserID: 2, Role: RoleEmployee}
	admin := Actor{UserID: 3, Role: RoleAdmin}
	sharedMember := Actor{UserID: 4, Role: RoleEmployee}

	cases := []struct {
		name string
		ws   Workspace
		actor Actor
		want bool
	}{
		{"owner always reads", Workspace{OwnerUserID: 1, Visibility: VisibilityPrivate}, owner, true},
		{"admin always reads", Workspace{OwnerUserID: 1, Visibility: VisibilityPrivate}, admin, true},
		{"stranger blocked on private", Workspace{OwnerUserID: 1, Visibility: VisibilityPrivate}, other, false},
		{"org read open to employees", Workspace{OwnerUserID: 1, Visibility: VisibilityOrgRead}, other, true},
		{"shared member allowed", Workspace{OwnerUserID: 1, Visibility: VisibilityShared, SharedUserIDs: []int64{4}}, sharedMember, true},
		{"non-member blocked on shared", Workspace{OwnerUserID: 1, Visibility: VisibilityShared, SharedUserIDs: []int64{4}}, other, false},
		{"roleless actor blocked even on org read", Workspace{OwnerUserID: 1, Visibility: VisibilityOrgRead}, Actor{UserID: 5}, false},
		{"roleless actor blocked even when owner", Workspace{OwnerUserID: 1, Visibility: VisibilityPrivate}, Actor{UserID: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanReadWorkspace(tc.ws, tc.actor); got != tc.want {
				t.Errorf("CanReadWorkspace() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanWriteWorkspace(t *testing.T) {
	ws := Workspace{OwnerUserID: 1, Visibility: VisibilityOrgRead}
	if !CanWriteWorkspace(ws, Actor{UserID: 1, Role: RoleEmployee}) {
		t.Error("owner should be able to write")
	}
	if !CanWriteWorkspace(ws, Actor{UserID: 99, Role: RoleAdmin}) {
		t.Error("admin should be able to write")
	}
	if CanWriteWorkspace(ws, Actor{UserID: 2, Role: RoleEmployee}) {
		t.Error("org-read visibility must not grant write access")
	}
	if CanWriteWorkspace(ws, Actor{UserID: 1}) {
		t.Error("roleless owner must not be able to write")
	}
}

func TestCanManageACLMirrorsWrite(t *testing.T) {
	ws := Workspace{OwnerUserID: 1}
	owner := Actor{UserID: 1, Role: RoleEmployee}
	stranger := Actor{UserID: 2, Role: RoleEmployee}
	if CanManageACL(ws, stranger) {
		t.Error("non-owner must not manage ACL")
	}
	if !CanManageACL(ws, owner) {
		t.Error("owner must manage ACL")
	}
}

func TestCanAccessDocument(t *testing.T) {
	admin := Actor{UserID: 1, Role: RoleAdmin}
	owner := Actor{UserID: 2, Role: RoleEmployee}
	viewer := Actor{UserID: 3, Role: RoleEmployee}

	openDoc := Document{OwnerUserID: 2}
	restricted := Document{OwnerUserID: 2, AllowedRoles: []string{"MANAGER"}}

	if !CanAccessDocument(openDoc, viewer) {
		t.Error("document with no allowed_roles must be open to any workspace reader")
	}
	if !CanAccessDocument(restricted, admin) {
		t.Error("admin must bypass allowed_roles")
	}
	if !CanAccessDocument(restricted, owner) {
		t.Error("owner must bypass allowed_roles")
	}
	if CanAccessDocument(restricted, viewer) {
		t.Error("viewer without a matching role must be blocked")
	}
	if !CanAccessDocument(Document{OwnerUserID: 2, AllowedRoles: []string{"employee"}}, viewer) {
		t.Error("allowed_roles match must be case-insensitive")
	}
}

func TestFilterDocumentsPreservesOrder(t *testing.T) {
	viewer := Actor{UserID: 3, Role: RoleEmployee}
	docs := []Document{
		{ID: "a", OwnerUserID: 2},
		{ID: "b", OwnerUserID: 2, AllowedRoles: []string{"MANAGER"}},
		{ID: "c", OwnerUserID: 2},
	}
	got := FilterDocuments(docs, viewer)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected filtered set: %+v", got)
	}
}
