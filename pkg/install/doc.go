/*
Package install keeps the Prometheus executables on disk at the desired
version.

The Manager walks a small state machine for each install attempt:

	absent → downloading → verifying → installed
	                   ↘          ↘
	                    failed ←───┘

The release archive is spooled to a staging file while it is hashed. Only a
verified archive is unpacked, and each executable is written to a temp file
beside its final path, fsynced and renamed into place. promtool is replaced
before prometheus so the daemon binary is the last thing to change.

Before the first rename every executable already on disk is hard-linked to
a hidden .<name>.previous file. If a rename or the InstalledState save fails,
the executables replaced so far are renamed back from those links (or
removed, when there was no previous one), so promtool never stays at a
different version than prometheus. The links are removed once the attempt
ends.

InstalledState is saved only after every rename succeeded. A failure at any
step leaves the previous binaries and their recorded state untouched.
*/
package install
