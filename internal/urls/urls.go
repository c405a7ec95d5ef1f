package urls

// Documentation URLs for the tools stagehand drives.

// OpenOCDGeneralCommands documents halt, resume, wait_halt, bp/rbp and
// reg, the monitor commands the GDB backend issues.
const OpenOCDGeneralCommands = "https://openocd.org/doc/html/General-Commands.html"

// OpenOCDGDBEvents documents the gdb-attach and gdb-detach target
// events, which must not resume or reset the target between sessions.
const OpenOCDGDBEvents = "https://openocd.org/doc/html/GDB-and-OpenOCD.html"

// GDBFiles documents add-symbol-file and the restore/dump commands used
// for symbol and image transfer.
const GDBFiles = "https://sourceware.org/gdb/current/onlinedocs/gdb.html/Files.html"

// TFABootFlow describes the BL1 -> BL2 -> BL33 boot flow.
const TFABootFlow = "https://trustedfirmware-a.readthedocs.io/en/latest/design/firmware-design.html"
