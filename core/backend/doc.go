/*
Package backend implements the configurable authorized CRUD backend

A backend manages resources in a document store and provides an auto-generated RESTful-API for
them. Every request passes the same workflow: authentication, existence, authorization,
validation, file staging, persistence, presentation and finally the resource events.

Configuration

The configuration is done entirely via JSON. It consists of a list of resources.

Example:
  {
	"resources": [
	  {
		"resource": "community",
		"label": "Community",
		"schema_id": "https://example.com/schemas/community.json",
		"update_schema_id": "https://example.com/schemas/community-update.json",
		"default": { "description": "" },
		"permits": [
		  { "role": "everybody", "operations": ["list", "read"] },
		  { "role": "sub-admin", "operations": ["create", "update", "delete"] }
		]
	  },
	  {
		"resource": "support_ticket",
		"label": "SupportTicket",
		"schema_id": "https://example.com/schemas/support-ticket.json",
		"properties": ["name", "description", "status"],
		"default": { "status": "pending" },
		"owner_field": "created_by",
		"expand_owner": true,
		"attachments": { "field": "files", "destination": "public/support-tickets" },
		"permits": [
		  { "role": "everybody", "operations": ["create"] },
		  { "role": "owner", "operations": ["list", "read", "update", "delete"] },
		  { "role": "sub-admin", "operations": ["list", "read", "create", "update", "delete"] }
		]
	  }
	]
  }

This configuration creates the following REST routes:
	GET /communities
	POST /communities
	GET /communities/{community_id}
	PUT /communities/{community_id}
	DELETE /communities/{community_id}
	GET /support_tickets
	POST /support_tickets
	GET /support_tickets/{support_ticket_id}
	PUT /support_tickets/{support_ticket_id}
	DELETE /support_tickets/{support_ticket_id}

If the configuration contains a "user" resource, the backend also serves
	GET /users/me
	GET /users/notifications
where the latter requires a "notification" resource.

A resource can restrict its operations with "operations". Routes of disabled operations are not
registered.

The models look like this:

	SupportTicket
	{
		"support_ticket_id": UUID,
		"name": STRING,
		"description": STRING,
		"status": STRING,
		"files": [File],
		"created_by": UUID or {"user_id": UUID, "email": STRING, "name": STRING},
		"created_at": TIMESTAMP,
		"updated_at": TIMESTAMP,
		"revision": INTEGER
	}

The identifier, the timestamps, the revision, the owner field and the attachment field are
managed by the backend. Clients cannot write them; they are silently dropped from payloads.
The one exception is the owner field on create: principals which are granted create by one
of their roles, not just by "everybody", may name the owner of the new record.
If "properties" is set, only those properties are writable. Properties listed in "restricted"
are only writable for principals which are granted the operation by role, not by ownership.

Validation

Create payloads are merged with the resource's "default" and validated against "schema_id".
Update payloads are validated against "update_schema_id", which typically has no required
properties, and then merged shallowly into the stored record. The merged record is validated
against "schema_id" again, so constraints between properties hold after partial updates. Validation errors are returned
as

	{
	  "message": "Validation Error",
	  "errors": [ { "field": "name", "message": "name is required" } ]
	}

Authorization

The "permits" define which role may execute which operation. Apart from the roles of the
principal, there are the pseudo roles "everybody", which is any authenticated principal, and
"owner", which requires the principal to be the owner of the record. Listing with only the
owner permit returns the principal's own records. The role "admin" is granted everything
unless the resource has permits for it.

Checks happen in a fixed order: a request without principal is rejected with 401, an unknown
record with 404, a missing permit with 403, and an invalid payload with 400.

Attachments

Resources with "attachments" accept multipart/form-data. Files are uploaded in the attachment
field, either repeated or as indexed keys files[0], files[1] and so on. The bytes are stored in
the key-value storage (kss) under the destination, the metadata in the "file" resource. Files
in an update replace the previous set. The previous files are only removed after the updated
record was stored. Deleting a record removes its files.

Querying

The list routes support the following query parameters:

	limit: the page size, 1 to 100, default 100
	page: the page, starting with 1
	order: asc or desc, default desc by creation time
	from, until: RFC3339 timestamps limiting the creation time
	filter: property=value or property~value, may be repeated

Pagination information is returned in the headers Pagination-Limit, Pagination-Total-Count,
Pagination-Page-Count and Pagination-Current-Page.

Events

After every successful create, update and delete the backend calls the handlers installed with
HandleResourceEvent and publishes a ResourceEvent to the configured Publisher. Failures are
logged and never change the result of the request.
*/
package backend
