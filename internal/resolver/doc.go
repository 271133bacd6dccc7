/*
Package resolver answers filesystem callbacks for an LDAP tree.

Every call classifies its path against the host table and walks the same
ordered checks:

	""                          ENOENT
	/                           directory, lists the hosts
	/unknown                    ENOENT
	/host                       directory, lists the base scopes
	/host/unknown               ENOENT
	/host/base/.../name         overlay directory, or
	                            LDAP object (directory), or
	                            attribute "name" of the parent object (file)

Object directories list "=attributes", their attribute names, their
one-level children and the overlay directories created below them. Child
DNs become file names with naming.NameToFilename.

Results are syscall.Errno values ready for a FUSE binding. Absent objects and
malformed names resolve to ENOENT and are logged at debug level. Transport
failures also resolve to ENOENT (EIO for mkdir and mknod) but are logged as
warnings. Every call is counted through types.MetricsCollector.
*/
package resolver
